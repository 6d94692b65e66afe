package handler

import (
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const ctxBody = "body"

// Schemas maps "METHOD /route" to the request body type for that route.
// Routes without an entry take no body.
type Schemas struct {
	validate *validator.Validate
	routes   map[string]func() any
}

func NewSchemas() *Schemas {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Schemas{validate: v, routes: map[string]func() any{}}
}

// Add registers the body type T for a route. path is the gin route template
// including the group prefix.
func Add[T any](s *Schemas, method, path string) {
	s.routes[method+" "+path] = func() any { return new(T) }
}

func (s *Schemas) Has(method, path string) bool {
	_, ok := s.routes[method+" "+path]
	return ok
}

// Middleware decodes and validates the body of registered routes. The first
// failing field is reported as VALIDATION_ERROR {field, key}.
func (s *Schemas) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		mk, ok := s.routes[c.Request.Method+" "+c.FullPath()]
		if !ok {
			c.Next()
			return
		}
		body := mk()
		if err := json.NewDecoder(c.Request.Body).Decode(body); err != nil && !errors.Is(err, io.EOF) {
			Error(c, invalid("body", "invalid_json"))
			return
		}
		if err := s.validate.Struct(body); err != nil {
			Error(c, validationError(err))
			return
		}
		c.Set(ctxBody, body)
		c.Next()
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		field := first.Field()
		if ns := first.Namespace(); strings.Contains(ns, ".") {
			field = ns[strings.Index(ns, ".")+1:]
		}
		return invalid(field, first.Tag())
	}
	return invalid("body", "invalid")
}

// bodyOf returns the decoded body stored by Schemas.Middleware.
func bodyOf[T any](c *gin.Context) *T {
	if v, ok := c.Get(ctxBody); ok {
		if b, ok := v.(*T); ok {
			return b
		}
	}
	return new(T)
}
