package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/artpar/ringside/internal/core/domain"
	"github.com/artpar/ringside/internal/engine"
	"github.com/artpar/ringside/internal/shell/media"
)

const maxFormMemory = 16 << 20

// parseRequest reads a urlencoded or multipart form.
func parseRequest(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return fmt.Errorf("%w: %v", engine.ErrValidation, err)
		}
		return nil
	}
	return r.ParseForm()
}

// submittedValues returns the raw form values for re-displaying a form.
func submittedValues(res *engine.Resource, r *http.Request) map[string]any {
	values := make(map[string]any, len(res.Fields))
	for _, f := range res.Fields {
		if f.Type == engine.TypeBool {
			values[f.Name] = r.PostForm.Has(f.Name)
			continue
		}
		if r.PostForm.Has(f.Name) {
			values[f.Name] = r.PostForm.Get(f.Name)
		}
	}
	return values
}

// decodeForm converts submitted strings into typed values per field.
// On create, blank optional fields are left out so defaults apply; on update
// they clear nullable columns. Internal fields are never read.
func decodeForm(res *engine.Resource, r *http.Request, creating bool) (map[string]any, error) {
	data := make(map[string]any)
	for _, f := range res.Fields {
		if f.Internal || f.Upload {
			continue
		}
		if f.Type == engine.TypeBool {
			data[f.Name] = r.PostForm.Has(f.Name)
			continue
		}
		if !r.PostForm.Has(f.Name) {
			continue
		}

		raw := strings.TrimSpace(r.PostForm.Get(f.Name))
		if raw == "" {
			switch {
			case f.Computed != nil && creating:
			case f.Nullable || f.Computed != nil:
				if !creating {
					data[f.Name] = nil
				}
			case f.Required && f.DefaultValue == nil:
				data[f.Name] = ""
			}
			continue
		}

		v, err := decodeValue(f, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", engine.ErrValidation, f.DisplayLabel(), err)
		}
		data[f.Name] = v
	}
	return data, nil
}

func decodeValue(f engine.Field, raw string) (any, error) {
	switch f.Type {
	case engine.TypeMoney:
		return domain.ParseMoney(raw)
	case engine.TypeInt:
		n, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64)
		if err != nil {
			return nil, errors.New("must be a whole number")
		}
		return n, nil
	case engine.TypeFloat:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.New("must be a number")
		}
		return n, nil
	case engine.TypeTimestamp:
		t, err := engine.ParseTimestamp(raw)
		if err != nil {
			return nil, errors.New("must be a date and time")
		}
		return t, nil
	}
	return raw, nil
}

// storeUploads saves uploaded files through the media store and sets their URL
// fields. A URL typed into the text input is used when no file was sent.
func (h *Handler) storeUploads(ctx context.Context, res *engine.Resource, r *http.Request, data map[string]any, creating bool) error {
	for _, f := range res.Fields {
		if !f.Upload {
			continue
		}

		if r.MultipartForm != nil {
			if files := r.MultipartForm.File[f.Name+"_file"]; len(files) > 0 && files[0].Size > 0 {
				if h.media == nil {
					return fmt.Errorf("%w: %s: uploads are not configured", engine.ErrValidation, f.DisplayLabel())
				}
				header := files[0]
				file, err := header.Open()
				if err != nil {
					return fmt.Errorf("open upload: %w", err)
				}
				url, err := h.media.Put(ctx, header.Filename, header.Header.Get("Content-Type"), file)
				file.Close()
				if err != nil {
					if errors.Is(err, media.ErrUnsupportedType) || errors.Is(err, media.ErrTooLarge) {
						return fmt.Errorf("%w: %s: %v", engine.ErrValidation, f.DisplayLabel(), err)
					}
					return err
				}
				data[f.Name] = url
				continue
			}
		}

		raw := strings.TrimSpace(r.PostForm.Get(f.Name))
		switch {
		case r.PostForm.Has(f.Name+"_clear") && !creating:
			data[f.Name] = nil
		case raw != "":
			data[f.Name] = raw
		}
	}
	return nil
}
