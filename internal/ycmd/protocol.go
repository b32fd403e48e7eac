package ycmd

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Server endpoint paths.
const (
	PathCompletions         = "/completions"
	PathEventNotification   = "/event_notification"
	PathRunCompleterCommand = "/run_completer_command"
	PathLoadExtraConfFile   = "/load_extra_conf_file"
	PathIgnoreExtraConfFile = "/ignore_extra_conf_file"
	PathHealthy             = "/healthy"
	PathDebugInfo           = "/debug_info"
)

// SignatureHeader carries the base64-encoded request HMAC.
const SignatureHeader = "X-Signature"

// EventFileReadyToParse asks the server to (re)analyze a buffer.
const EventFileReadyToParse = "FileReadyToParse"

// Exception type names reported by the server.
const (
	ExceptionUnknownExtraConf = "UnknownExtraConf"
	ExceptionValueError       = "ValueError"
	ExceptionRuntimeError     = "RuntimeError"
)

// FileData describes one buffer's contents in a request.
type FileData struct {
	Contents  string   `json:"contents"`
	Filetypes []string `json:"filetypes"`
}

// RequestData is the standard content shape shared by most requests.
type RequestData struct {
	FileData  map[string]FileData `json:"file_data"`
	FilePath  string              `json:"filepath"`
	LineNum   int                 `json:"line_num"`
	ColumnNum int                 `json:"column_num"`
}

// EventRequest is the body of an /event_notification call.
type EventRequest struct {
	RequestData
	EventName      string   `json:"event_name"`
	TagFiles       []string `json:"tag_files,omitempty"`
	SyntaxKeywords []string `json:"syntax_keywords,omitempty"`
}

// CommandRequest is the body of a /run_completer_command call.
type CommandRequest struct {
	RequestData
	CommandArguments []string `json:"command_arguments"`
	CompleterTarget  string   `json:"completer_target,omitempty"`
}

// ExtraConfRequest is the body of the extra-conf approve/reject calls.
type ExtraConfRequest struct {
	FilePath string `json:"filepath"`
}

// Location is a 1-based position in a file. Column is a byte offset
// within the line plus one; column 0 means start of buffer.
type Location struct {
	FilePath  string `json:"filepath"`
	LineNum   int    `json:"line_num"`
	ColumnNum int    `json:"column_num"`
}

// Range is a half-open [Start, End) span of buffer text.
type Range struct {
	Start Location `json:"start"`
	End   Location `json:"end"`
}

// Chunk is a server-proposed atomic text replacement.
type Chunk struct {
	Range           Range  `json:"range"`
	ReplacementText string `json:"replacement_text"`
}

// FixIt is a named set of chunks forming one automated fix.
type FixIt struct {
	Text     string   `json:"text"`
	Location Location `json:"location"`
	Chunks   []Chunk  `json:"chunks"`
}

// Candidate is a single completion suggestion.
type Candidate struct {
	InsertionText string `json:"insertion_text"`
	MenuText      string `json:"menu_text,omitempty"`
	ExtraMenuInfo string `json:"extra_menu_info,omitempty"`
	DetailedInfo  string `json:"detailed_info,omitempty"`
	Kind          string `json:"kind,omitempty"`
}

// CompletionResponse is the decoded /completions result.
type CompletionResponse struct {
	Completions           []Candidate       `json:"completions"`
	CompletionStartColumn int               `json:"completion_start_column"`
	Errors                []json.RawMessage `json:"errors,omitempty"`
}

// Diagnostic is one entry of a FileReadyToParse response.
type Diagnostic struct {
	Location       Location `json:"location"`
	LocationExtent Range    `json:"location_extent"`
	Text           string   `json:"text"`
	Kind           string   `json:"kind"`
	FixitAvailable bool     `json:"fixit_available"`
}

// ResultKind tags the variant held by a Result.
type ResultKind int

const (
	// ResultNone means the server returned nothing usable.
	ResultNone ResultKind = iota
	// ResultCompletions holds a completion response.
	ResultCompletions
	// ResultLocations holds one or more locations.
	ResultLocations
	// ResultDiagnostics holds a parse diagnostics list.
	ResultDiagnostics
	// ResultFixIts holds fix-it proposals.
	ResultFixIts
	// ResultPayload holds a raw JSON payload with no more specific shape.
	ResultPayload
)

// String returns a human-readable kind name.
func (k ResultKind) String() string {
	switch k {
	case ResultNone:
		return "none"
	case ResultCompletions:
		return "completions"
	case ResultLocations:
		return "locations"
	case ResultDiagnostics:
		return "diagnostics"
	case ResultFixIts:
		return "fixits"
	case ResultPayload:
		return "payload"
	default:
		return "unknown"
	}
}

// Result is the tagged variant produced by decoding a server response.
// Exactly one field matching Kind is populated.
type Result struct {
	Kind        ResultKind
	Completions *CompletionResponse
	Locations   []Location
	Diagnostics []Diagnostic
	FixIts      []FixIt
	Payload     json.RawMessage
}

// Message extracts a human-readable message from a payload result
// (GetType/GetDoc style responses), or the empty string.
func (r Result) Message() string {
	if r.Kind != ResultPayload || len(r.Payload) == 0 {
		return ""
	}
	if msg := gjson.GetBytes(r.Payload, "message"); msg.Exists() {
		return msg.String()
	}
	if info := gjson.GetBytes(r.Payload, "detailed_info"); info.Exists() {
		return info.String()
	}
	return ""
}

// decodeResponse classifies a raw server body into a Result or a
// ServerError. A malformed or empty body yields a none Result: callers
// expecting JSON receive "no result" rather than a failure.
func decodeResponse(body []byte) (Result, *ServerError) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return Result{Kind: ResultNone}, nil
	}

	parsed := gjson.ParseBytes(body)

	if parsed.IsObject() {
		if exc := parsed.Get("exception"); exc.Exists() {
			return Result{Kind: ResultNone}, &ServerError{
				Type:          exc.Get("TYPE").String(),
				Message:       parsed.Get("message").String(),
				ExtraConfFile: exc.Get("extra_conf_file").String(),
			}
		}
		if parsed.Get("completions").Exists() {
			var cr CompletionResponse
			if err := json.Unmarshal(body, &cr); err != nil {
				return Result{Kind: ResultNone}, nil
			}
			return Result{Kind: ResultCompletions, Completions: &cr}, nil
		}
		if parsed.Get("fixits").Exists() {
			var fr struct {
				FixIts []FixIt `json:"fixits"`
			}
			if err := json.Unmarshal(body, &fr); err != nil {
				return Result{Kind: ResultNone}, nil
			}
			return Result{Kind: ResultFixIts, FixIts: fr.FixIts}, nil
		}
		if parsed.Get("filepath").Exists() && parsed.Get("line_num").Exists() {
			var loc Location
			if err := json.Unmarshal(body, &loc); err != nil {
				return Result{Kind: ResultNone}, nil
			}
			return Result{Kind: ResultLocations, Locations: []Location{loc}}, nil
		}
		return Result{Kind: ResultPayload, Payload: json.RawMessage(body)}, nil
	}

	if parsed.IsArray() {
		elems := parsed.Array()
		if len(elems) == 0 {
			return Result{Kind: ResultDiagnostics, Diagnostics: []Diagnostic{}}, nil
		}
		first := elems[0]
		if first.Get("text").Exists() && first.Get("location").Exists() {
			var diags []Diagnostic
			if err := json.Unmarshal(body, &diags); err == nil {
				return Result{Kind: ResultDiagnostics, Diagnostics: diags}, nil
			}
		}
		if first.Get("filepath").Exists() && first.Get("line_num").Exists() {
			var locs []Location
			if err := json.Unmarshal(body, &locs); err == nil {
				return Result{Kind: ResultLocations, Locations: locs}, nil
			}
		}
		return Result{Kind: ResultPayload, Payload: json.RawMessage(body)}, nil
	}

	return Result{Kind: ResultPayload, Payload: json.RawMessage(body)}, nil
}
