package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/internal/service/resolve"
)

const maxBodyBytes = 1 << 20

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and runs struct validation.
func (r *Router) decode(req *http.Request, dst any) error {
	if err := decodeJSON(req, dst); err != nil {
		return err
	}
	return r.check(dst)
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(req *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, req.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.New(apperr.KindValidation, "decode", "", "invalid JSON body: "+err.Error())
	}
	return nil
}

func (r *Router) check(v any) error {
	err := r.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindValidation, "validate", "", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return apperr.New(apperr.KindValidation, "validate", "", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "required_without_all":
		return "one of project_id, container_id or project_name is required"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// referenceFromQuery reads project_id, container_id and project_name.
func referenceFromQuery(req *http.Request) resolve.Reference {
	q := req.URL.Query()
	return resolve.Reference{
		ProjectID:   strings.TrimSpace(q.Get("project_id")),
		ContainerID: strings.TrimSpace(q.Get("container_id")),
		Name:        strings.TrimSpace(q.Get("project_name")),
	}
}

func queryInt(req *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(req.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.KindValidation, "query", key, "must be a non-negative integer")
	}
	return n, nil
}

func queryBool(req *http.Request, key string) bool {
	b, _ := strconv.ParseBool(req.URL.Query().Get(key))
	return b
}
