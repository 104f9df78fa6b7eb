package protocol

import (
	"chat-relay/errors"
	"fmt"
	"path"
	"strconv"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// 0x7C is the pipe, which validator tags cannot spell literally.
type nameRequest struct {
	Name string `validate:"required,max=32,excludesall=0x7C"`
}

// FileRequest is the parsed form of ARQUIVO|<to>|<filename>|<size>.
type FileRequest struct {
	To       string `validate:"required,max=32,excludesall=0x7C"`
	Filename string `validate:"required,max=255,excludesall=0x7C"`
	Size     int64  `validate:"gte=0"`
}

// ValidateName checks a username or group name.
func ValidateName(name string) error {
	if err := validate.Struct(nameRequest{Name: name}); err != nil {
		return fmt.Errorf("%w: %q", errors.ErrInvalidName, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", errors.ErrInvalidName, name)
		}
	}
	return nil
}

// ParseFileRequest validates an ARQUIVO frame against the maximum accepted size.
func ParseFileRequest(f Frame, maxSize int64) (FileRequest, error) {
	if len(f.Args) != 3 {
		return FileRequest{}, fmt.Errorf("%w: usage ARQUIVO|<to>|<filename>|<size>", errors.ErrProtocol)
	}
	size, err := strconv.ParseInt(f.Args[2], 10, 64)
	if err != nil {
		return FileRequest{}, fmt.Errorf("%w: size %q", errors.ErrInvalidRequest, f.Args[2])
	}
	req := FileRequest{To: f.Args[0], Filename: f.Args[1], Size: size}
	if err := validate.Struct(req); err != nil {
		return FileRequest{}, fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	if path.Base(req.Filename) != req.Filename || req.Filename == "." || req.Filename == ".." {
		return FileRequest{}, fmt.Errorf("%w: filename %q", errors.ErrInvalidRequest, req.Filename)
	}
	if maxSize > 0 && req.Size > maxSize {
		return FileRequest{}, fmt.Errorf("%w: %d bytes exceeds %d", errors.ErrInvalidRequest, req.Size, maxSize)
	}
	return req, nil
}
