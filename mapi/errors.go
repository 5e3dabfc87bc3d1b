package mapi

import (
	"errors"
	"fmt"
)

//TransportError wraps failures of the HTTP round trip
type TransportError struct {
	ErrorValue error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", e.ErrorValue)
}

func (e *TransportError) Unwrap() error {
	return e.ErrorValue
}

var (
	//ErrUnknown is returned when the server fails the whole request
	ErrUnknown = errors.New("an unhandled error occurred")
	//ErrNotAuthenticated is returned when a rop is sent before Authenticate
	ErrNotAuthenticated = errors.New("no MAPI session, authenticate first")
	//ErrCompressed is returned for rop buffers using the compression flag
	ErrCompressed = errors.New("compressed rop buffers are not supported")
)

//ReturnValueError is a ROP that came back with a non-zero ReturnValue
type ReturnValueError struct {
	RopID uint8
	Code  uint32
}

func (e *ReturnValueError) Error() string {
	return fmt.Sprintf("%s failed: %s", ropName(e.RopID), ErrorCodeName(e.Code))
}

var errorCodes = map[uint32]string{
	0x00000000: "Success",
	0x80004005: "ecError",
	0x80040102: "ecNotSupported",
	0x80040107: "ecInvalidEntryId",
	0x80040109: "ecObjectModified",
	0x8004010A: "ecObjectDeleted",
	0x8004010F: "ecNotFound",
	0x80040111: "ecLoginFailure",
	0x80040115: "ecNetwork",
	0x80040116: "ecDiskError",
	0x80040117: "ecTooComplex",
	0x80070005: "ecAccessDenied",
	0x8007000E: "ecOutOfMemory",
	0x80070057: "ecInvalidParam",
	0x000004B6: "ecRpcFormat",
	0x00000478: "ecWrongServer",
}

//ErrorCodeName returns the symbolic name of a MAPI error code
func ErrorCodeName(code uint32) string {
	if name, ok := errorCodes[code]; ok {
		return fmt.Sprintf("%s (0x%08X)", name, code)
	}
	return fmt.Sprintf("0x%08X", code)
}
