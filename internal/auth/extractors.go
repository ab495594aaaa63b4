package auth

import "net/http"

// CredentialExtractor достаёт токен из одного конкретного места запроса.
// Аутентификатор пробует экстракторы по порядку и не знает, откуда токен.
type CredentialExtractor interface {
	Extract(r *http.Request, body map[string]any) (string, bool)
}

type HeaderExtractor struct {
	Header string
}

func (e HeaderExtractor) Extract(r *http.Request, _ map[string]any) (string, bool) {
	v := r.Header.Get(e.Header)
	return v, v != ""
}

type BodyFieldExtractor struct {
	Field string
}

func (e BodyFieldExtractor) Extract(_ *http.Request, body map[string]any) (string, bool) {
	if body == nil {
		return "", false
	}
	v, ok := body[e.Field].(string)
	return v, ok && v != ""
}

// QueryExtractor включается только на read-only ручках:
// часть партнёров не умеет ставить свои заголовки.
type QueryExtractor struct {
	Param string
}

func (e QueryExtractor) Extract(r *http.Request, _ map[string]any) (string, bool) {
	v := r.URL.Query().Get(e.Param)
	return v, v != ""
}

// WriteExtractors — порядок источников для пишущих ручек.
func WriteExtractors() []CredentialExtractor {
	return []CredentialExtractor{
		HeaderExtractor{Header: "X-Partner-Key"},
		HeaderExtractor{Header: "X-Api-Key"},
		BodyFieldExtractor{Field: "apiToken"},
	}
}

// ReadExtractors дополнительно принимает токен query-параметром.
func ReadExtractors() []CredentialExtractor {
	return append(WriteExtractors(), QueryExtractor{Param: "token"})
}
