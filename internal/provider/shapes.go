package provider

import (
	"errors"

	"github.com/tidwall/gjson"
)

var errInvalidJSON = errors.New("response body is not valid JSON")

type shapeKind int

const (
	shapeNone shapeKind = iota
	shapeMessage
	shapeChoices
)

// responseShape is the recognised layout of a completion body.
type responseShape struct {
	kind shapeKind
	text string
}

// Text returns the normalized answer, NoResponse when nothing was found.
func (s responseShape) Text() string {
	if s.kind == shapeNone {
		return NoResponse
	}
	return s.text
}

// completionShape reads an OpenAI-style body. A bare top-level message
// wins over the choices array.
func completionShape(body []byte) (responseShape, error) {
	if !gjson.ValidBytes(body) {
		return responseShape{}, errInvalidJSON
	}
	if v := gjson.GetBytes(body, "message.content"); v.Type == gjson.String && v.String() != "" {
		return responseShape{kind: shapeMessage, text: v.String()}, nil
	}
	if v := gjson.GetBytes(body, "choices.0.message.content"); v.Type == gjson.String && v.String() != "" {
		return responseShape{kind: shapeChoices, text: v.String()}, nil
	}
	return responseShape{kind: shapeNone}, nil
}
