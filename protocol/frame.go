// Package protocol defines the relay wire format.
//
// A control frame is a big-endian uint32 length followed by a UTF-8 payload
// of pipe-delimited fields, tag first: TAG|arg1|arg2. Raw file bytes are never
// framed: they follow a FILE_TRANSFER header (server to client) or an
// OK_ARQUIVO reply (client to server) and are read by declared length.
package protocol

import (
	"chat-relay/errors"
	"strings"
)

const Separator = "|"

// Client to server
const (
	TagMessage     = "MSG"
	TagCreateGroup = "CRIAR_GRUPO"
	TagJoinGroup   = "ENTRAR_GRUPO"
	TagAddMember   = "ADD_GRUPO"
	TagMembers     = "MEMBROS"
	TagLeaveGroup  = "SAIR_GRUPO"
	TagDeleteGroup = "APAGAR_GRUPO"
	TagList        = "LISTAR"
	TagFile        = "ARQUIVO"
	TagQuit        = "SAIR"
)

// Server to client
const (
	TagPrivate      = "MSG_PRIVADA"
	TagGroup        = "MSG_GRUPO"
	TagInfo         = "INFO"
	TagError        = "ERRO"
	TagFileTransfer = "FILE_TRANSFER"
	TagNameOK       = "NOME_OK"
	TagFileReady    = "OK_ARQUIVO"
	TagFileDone     = "ARQUIVO_OK"
)

type Frame struct {
	Tag  string
	Args []string
}

func New(tag string, args ...string) Frame {
	return Frame{Tag: tag, Args: args}
}

// Parse splits a payload on the separator. Empty trailing fields are kept,
// so "LISTAR|" yields one empty argument.
func Parse(payload string) Frame {
	parts := strings.Split(payload, Separator)
	return Frame{Tag: parts[0], Args: parts[1:]}
}

func (f Frame) String() string {
	if len(f.Args) == 0 {
		return f.Tag
	}
	return f.Tag + Separator + strings.Join(f.Args, Separator)
}

// Arg returns the i-th argument, or "" when absent.
func (f Frame) Arg(i int) string {
	if i < 0 || i >= len(f.Args) {
		return ""
	}
	return f.Args[i]
}

// Rest joins every argument from i onwards, restoring separators that were
// part of free text such as a chat message.
func (f Frame) Rest(i int) string {
	if i >= len(f.Args) {
		return ""
	}
	return strings.Join(f.Args[i:], Separator)
}

func Info(text string) Frame {
	return New(TagInfo, text)
}

// Error builds an ERRO frame as "<code>: <detail>", or just the code.
func Error(code, detail string) Frame {
	if detail == "" {
		return New(TagError, code)
	}
	return New(TagError, code+": "+detail)
}

// ErrorFrom renders err as an ERRO frame carrying its wire code. Details of
// errors outside the client-facing taxonomy are not leaked.
func ErrorFrom(err error) Frame {
	code := errors.Code(err)
	if code == errors.CodeInternal {
		return Error(code, "")
	}
	detail := strings.TrimPrefix(err.Error(), code)
	detail = strings.TrimPrefix(detail, ": ")
	return Error(code, detail)
}
