// Package querybridge translates free-text questions about job indexing logs
// into either a structured database query or a textual answer, via an external
// text generation service.
//
// Every question is a fresh one-shot interaction: the bridge keeps no state
// between questions, never retries the generation call and never caches
// results.
package querybridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// execErrorMessage is the fixed user-facing message attached when a generated
// query cannot be executed. The underlying store error is logged, never
// surfaced.
const execErrorMessage = "Error executing database query. Please try rephrasing your question."

// Result types.
const (
	TypeText  = "text"
	TypeTable = "table"
	TypeMixed = "mixed"
)

// Result is the composed answer for one question.
type Result struct {
	Type        string           `json:"type"`
	TextContent string           `json:"textContent,omitempty"`
	TableData   []map[string]any `json:"tableData,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Generator produces a text reply for a prompt. Production code wraps the
// Gemini API; tests substitute a canned implementation.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Executor runs a validated pipeline against the log record store.
type Executor interface {
	RunPipeline(ctx context.Context, p Pipeline) ([]map[string]any, error)
}

// Bridge orchestrates prompt composition, generation, parsing and execution.
type Bridge struct {
	gen Generator
	db  Executor
}

// New creates a bridge over the given generator and store.
func New(gen Generator, db Executor) *Bridge {
	return &Bridge{gen: gen, db: db}
}

// modelReply is the JSON contract the prompt mandates.
type modelReply struct {
	ResponseType string    `json:"responseType"`
	Pipeline     *Pipeline `json:"pipeline,omitempty"`
	Explanation  string    `json:"explanation,omitempty"`
}

// Ask answers one question. The supplied instant is embedded into the prompt
// as the literal "current date" so the model never needs dynamic date
// expressions.
//
// A generation failure is the only hard error; malformed model output and
// failed query execution both degrade into a textual result.
func (b *Bridge) Ask(ctx context.Context, question string, now time.Time) (Result, error) {
	reply, err := b.gen.Generate(ctx, composePrompt(question, now))
	if err != nil {
		return Result{}, fmt.Errorf("could not generate an answer: %w", err)
	}

	parsed, ok := parseReply(reply)
	if !ok {
		// Graceful degradation: show whatever the model said, verbatim.
		return Result{Type: TypeText, TextContent: strings.TrimSpace(reply)}, nil
	}

	result := Result{Type: mapType(parsed.ResponseType)}

	if parsed.ResponseType == "data" || parsed.ResponseType == "mixed" {
		if parsed.Pipeline != nil {
			rows, err := b.db.RunPipeline(ctx, *parsed.Pipeline)
			if err != nil {
				slog.Error("Generated query failed to execute", "err", err)
				result.Type = TypeText
				result.Error = execErrorMessage
			} else {
				if rows == nil {
					rows = []map[string]any{}
				}
				result.TableData = rows
			}
		} else {
			slog.Warn("Model reply promised data but carried no pipeline")
		}
	}

	if parsed.ResponseType == "text" || parsed.ResponseType == "mixed" {
		if parsed.Explanation != "" {
			result.TextContent = parsed.Explanation
		}
	}

	return result, nil
}

var codeFenceRe = regexp.MustCompile("```(?:json)?\n?")

// parseReply strips residual code fences and decodes the model reply. It
// reports false when the reply is not the mandated JSON contract.
func parseReply(reply string) (modelReply, bool) {
	cleaned := strings.TrimSpace(codeFenceRe.ReplaceAllString(reply, ""))

	var parsed modelReply
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		slog.Debug("Model reply is not valid JSON", "err", err)
		return modelReply{}, false
	}
	switch parsed.ResponseType {
	case "data", "text", "mixed":
		return parsed, true
	default:
		slog.Debug("Model reply has unknown responseType", "responseType", parsed.ResponseType)
		return modelReply{}, false
	}
}

func mapType(responseType string) string {
	if responseType == "data" {
		return TypeTable
	}
	return responseType
}
