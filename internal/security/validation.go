package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Input limits for JSON arriving from the admin API, webhooks and the DM
// relay.
const (
	DefaultMaxMessageSize = 1 << 20
	DefaultMaxJSONDepth   = 32
)

var (
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrJSONTooDeep     = errors.New("JSON nesting exceeds maximum depth")
	ErrInvalidJSON     = errors.New("invalid JSON")
	ErrInvalidInput    = errors.New("invalid input")
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// DecodeJSON bounds the nesting of data, decodes it into v and, when v
// points to a struct, checks its validate tags. Errors wrap ErrJSONTooDeep,
// ErrInvalidJSON or ErrInvalidInput.
func DecodeJSON(data []byte, v any) error {
	if err := ValidateJSONDepth(data, DefaultMaxJSONDepth); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.Elem().Kind() == reflect.Struct {
		return ValidateStruct(v)
	}
	return nil
}

// ValidateStruct checks the validate tags of v and reports every failing
// field as "Field: tag".
func ValidateStruct(v any) error {
	err := structValidator.Struct(v)
	var fields validator.ValidationErrors
	switch {
	case err == nil:
		return nil
	case !errors.As(err, &fields):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	msgs := make([]string, len(fields))
	for i, fe := range fields {
		msgs[i] = fe.Field() + ": " + fe.Tag()
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, ", "))
}

// ValidateMessageSize rejects data longer than limit bytes, or
// DefaultMaxMessageSize when limit is not positive.
func ValidateMessageSize(data []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	if n := len(data); n > limit {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, n, limit)
	}
	return nil
}

// ValidateJSONDepth walks the token stream of data and fails once objects
// and arrays nest deeper than limit, or DefaultMaxJSONDepth when limit is
// not positive. Empty input passes.
func ValidateJSONDepth(data []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxJSONDepth
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	for depth := 0; ; {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		if delim == '{' || delim == '[' {
			if depth++; depth > limit {
				return fmt.Errorf("%w: depth %d (max %d)", ErrJSONTooDeep, depth, limit)
			}
			continue
		}
		depth--
	}
}
