package audit

import (
	mathrand "math/rand"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// OperationType is the CRUD class of an audited request.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpRead   OperationType = "read"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
	OpOther  OperationType = "other"
)

// Result is the outcome of an audited request.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
)

// Record is one append-only audit entry, produced once per completed request.
type Record struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId,omitempty"`
	Module          string         `json:"module"`
	Action          string         `json:"action"`
	OperationType   OperationType  `json:"operationType"`
	ResourceType    string         `json:"resourceType"`
	ResourceID      string         `json:"resourceId,omitempty"`
	Description     string         `json:"description"`
	RequestMethod   string         `json:"requestMethod"`
	RequestURL      string         `json:"requestUrl"`
	SanitizedParams map[string]any `json:"sanitizedParams,omitempty"`
	IP              string         `json:"ip,omitempty"`
	UserAgent       string         `json:"userAgent,omitempty"`
	Result          Result         `json:"operationResult"`
	ResultMessage   string         `json:"resultMessage,omitempty"`
	StatusCode      int            `json:"statusCode"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`
	CreatedAt       time.Time      `json:"createdAt"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a lexicographically sortable record id.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// OperationFor maps an HTTP method to its operation type.
func OperationFor(method string) OperationType {
	switch method {
	case http.MethodPost:
		return OpCreate
	case http.MethodGet, http.MethodHead:
		return OpRead
	case http.MethodPut, http.MethodPatch:
		return OpUpdate
	case http.MethodDelete:
		return OpDelete
	default:
		return OpOther
	}
}

var uuidLike = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func pathSegments(path string) []string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ModuleFromPath returns the first path segment after an optional "api"
// prefix, or "root".
func ModuleFromPath(path string) string {
	segs := pathSegments(path)
	if len(segs) > 0 && segs[0] == "api" {
		segs = segs[1:]
	}
	if len(segs) == 0 {
		return "root"
	}
	return segs[0]
}

// ResourceIDFromPath returns the first numeric or UUID-looking segment.
func ResourceIDFromPath(path string) string {
	for _, s := range pathSegments(path) {
		if isDigits(s) || uuidLike.MatchString(s) {
			return s
		}
	}
	return ""
}

// Describe builds the action name and description of a request.
func Describe(method, path string) (action, description string) {
	module := ModuleFromPath(path)
	op := OperationFor(method)
	action = string(op) + "_" + module
	description = strings.ToUpper(method) + " " + module
	if id := ResourceIDFromPath(path); id != "" {
		description += " #" + id
	}
	return action, description
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
