package protocol

import (
	"chat-relay/errors"
	"encoding/binary"
	"fmt"
	"io"
)

const headerSize = 4

// ReadMessage reads one length-prefixed payload.
// A clean EOF before the header is returned as io.EOF; a frame cut short is io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader, maxSize int) (string, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", err
	}
	size := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && size > uint32(maxSize) {
		return "", fmt.Errorf("%w: %d bytes (max %d)", errors.ErrFrameTooLarge, size, maxSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return string(payload), nil
}

func ReadFrame(r io.Reader, maxSize int) (Frame, error) {
	payload, err := ReadMessage(r, maxSize)
	if err != nil {
		return Frame{}, err
	}
	return Parse(payload), nil
}

// WriteMessage writes header and payload with a single Write call.
func WriteMessage(w io.Writer, payload string) error {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

func WriteFrame(w io.Writer, f Frame) error {
	return WriteMessage(w, f.String())
}
