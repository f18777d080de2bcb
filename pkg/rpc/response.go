package rpc

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
