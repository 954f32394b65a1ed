// Package submission decodes a multipart post submission into a draft post,
// materializing attachments as their fields arrive.
package submission

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"unicode/utf8"

	"github.com/PumPum7/blog-app/internal/apperr"
	"github.com/PumPum7/blog-app/internal/storage"
)

// Recognized form field names.
const (
	FieldText      = "text"
	FieldUsername  = "username"
	FieldImage     = "image"
	FieldAvatarURL = "avatar_url"
)

// FieldReader yields multipart fields in stream order. *multipart.Reader
// satisfies it.
type FieldReader interface {
	NextPart() (*multipart.Part, error)
}

// Materializer stores attachment payloads and returns references to them.
type Materializer interface {
	StoreBytes(ctx context.Context, payload []byte) (string, error)
	FetchAndStore(ctx context.Context, url string) (string, error)
}

// Options bound what the parser will read.
type Options struct {
	// MaxImageBytes caps an image field. Zero means no cap.
	MaxImageBytes int64
}

// Result describes the side effects of a parse.
type Result struct {
	// Blobs lists every reference materialized, in order, including those
	// written before a later field failed.
	Blobs []string
}

// Parse consumes fields and fills draft. Each field is read exactly once, in
// the order it arrives; attachments are materialized synchronously.
func Parse(ctx context.Context, fields FieldReader, m Materializer, draft *storage.Post, opts Options) (Result, error) {
	var res Result

	for {
		if err := ctx.Err(); err != nil {
			return res, apperr.Wrap(apperr.CodeMalformedSubmission, "submission aborted", err)
		}

		part, err := fields.NextPart()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, apperr.Wrap(apperr.CodeMalformedSubmission, "read multipart", err)
		}

		ref, err := parseField(ctx, part, m, draft, opts)
		part.Close()
		if ref != "" {
			res.Blobs = append(res.Blobs, ref)
		}
		if err != nil {
			return res, err
		}
	}
}

// parseField handles one part and returns the reference it materialized, if any.
func parseField(ctx context.Context, part *multipart.Part, m Materializer, draft *storage.Post, opts Options) (string, error) {
	name := part.FormName()
	if name == "" {
		return "", apperr.New(apperr.CodeMalformedSubmission, "field has no name")
	}

	switch name {
	case FieldText:
		text, err := readText(part, name)
		if err != nil {
			return "", err
		}
		draft.Text = text

	case FieldUsername:
		username, err := readText(part, name)
		if err != nil {
			return "", err
		}
		draft.Username = username

	case FieldImage:
		payload, err := readBytes(part, name, opts.MaxImageBytes)
		if err != nil {
			return "", err
		}
		if len(payload) == 0 {
			return "", nil
		}
		ref, err := m.StoreBytes(ctx, payload)
		if err != nil {
			return "", err
		}
		draft.Image = storage.Ref(ref)
		return ref, nil

	case FieldAvatarURL:
		rawURL, err := readText(part, name)
		if err != nil {
			return "", err
		}
		rawURL = strings.TrimSpace(rawURL)
		if rawURL == "" {
			return "", nil
		}
		ref, err := m.FetchAndStore(ctx, rawURL)
		if err != nil {
			return "", err
		}
		draft.Avatar = storage.Ref(ref)
		return ref, nil
	}

	// Unknown fields are skipped; NextPart discards their content.
	return "", nil
}

func readBytes(part *multipart.Part, name string, limit int64) ([]byte, error) {
	var r io.Reader = part
	if limit > 0 {
		r = io.LimitReader(part, limit+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeMalformedSubmission, fmt.Sprintf("read field %q", name), err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, apperr.New(apperr.CodeMalformedSubmission, fmt.Sprintf("field %q exceeds %d bytes", name, limit))
	}
	return data, nil
}

func readText(part *multipart.Part, name string) (string, error) {
	data, err := readBytes(part, name, 0)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", apperr.New(apperr.CodeMalformedSubmission, fmt.Sprintf("field %q is not valid UTF-8", name))
	}
	return string(data), nil
}
