package http

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status Status `json:"status,omitempty"`
	Value  string `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewValueResponse(value string) Response {
	return Response{Status: StatusSuccess, Value: value}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

// CounterInfo describes one allocated counter of the registry.
type CounterInfo struct {
	ID     int32  `json:"id"`
	TypeID int32  `json:"type_id"`
	Label  string `json:"label"`
	Value  int64  `json:"value"`
}

type CountersResponse struct {
	Status   Status        `json:"status"`
	Counters []CounterInfo `json:"counters"`
}

// CommitPositionResponse is the result of a commit-position lookup.
type CommitPositionResponse struct {
	Status    Status `json:"status"`
	ClusterID int32  `json:"cluster_id"`
	CounterID int32  `json:"counter_id"`
	Value     int64  `json:"value"`
	Applied   uint64 `json:"applied,omitempty"`
}
