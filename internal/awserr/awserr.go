package awserr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is an AWS-shaped API error. It renders on the wire as
// {"__type":"<Code>","message":"<Message>"} with the matching HTTP status
// and an x-amzn-errortype header.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with an explicit status code.
func New(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func InvalidSignature(message string) *Error {
	return New("InvalidSignatureException", message, http.StatusForbidden)
}

func SignatureDoesNotMatch(message string) *Error {
	return New("SignatureDoesNotMatch", message, http.StatusForbidden)
}

func InvalidClientTokenId() *Error {
	return New("InvalidClientTokenId", "The security token included in the request is invalid.", http.StatusForbidden)
}

func MissingAuthenticationToken() *Error {
	return New("MissingAuthenticationToken", "Request is missing Authentication Token.", http.StatusForbidden)
}

func ResourceNotFound() *Error {
	return New("ResourceNotFoundException", "Secrets Manager can't find the resource that you asked for.", http.StatusBadRequest)
}

func ResourceExists(message string) *Error {
	return New("ResourceExistsException", message, http.StatusBadRequest)
}

func InvalidRequest(message string) *Error {
	return New("InvalidRequestException", message, http.StatusBadRequest)
}

func InvalidParameter(message string) *Error {
	return New("InvalidParameterException", message, http.StatusBadRequest)
}

func InvalidParameterCombination(message string) *Error {
	return New("InvalidParameterCombination", message, http.StatusBadRequest)
}

func MalformedRequest() *Error {
	return New("MalformedHTTPRequestException", "The request body is not valid JSON.", http.StatusBadRequest)
}

func InvalidAction(action string) *Error {
	return New("InvalidAction", fmt.Sprintf("The action %s is not valid for this web service.", action), http.StatusBadRequest)
}

func DatabaseLocked() *Error {
	return New("DatabaseLocked", "The secret store could not be unlocked.", http.StatusInternalServerError)
}

func InternalFailure() *Error {
	return New("InternalFailure", "An error occurred on the server side.", http.StatusInternalServerError)
}

// From maps any error to an *Error. Non-AWS errors become InternalFailure
// so that internal detail never leaks onto the wire.
func From(err error) *Error {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr
	}
	return InternalFailure()
}

// Write renders err as the AWS error envelope on w.
func Write(w http.ResponseWriter, err error) {
	aerr := From(err)

	body, _ := json.Marshal(map[string]string{
		"__type":  aerr.Code,
		"message": aerr.Message,
	})

	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.Header().Set("x-amzn-errortype", aerr.Code)
	w.WriteHeader(aerr.Status)
	w.Write(body)
}
