package utils

import (
	"io"
	"log"
)

var (
	Trace    = log.New(io.Discard, "[*] ", 0)
	Debug    = log.New(io.Discard, "[d] ", 0)
	Info     = log.New(io.Discard, "[+] ", 0)
	Fail     = log.New(io.Discard, "[x] ", 0)
	Question = log.New(io.Discard, "[?] ", 0)
	Warning  = log.New(io.Discard, "[WARNING] ", 0)
	Error    = log.New(io.Discard, "ERROR: ", log.Ldate|log.Ltime)
)

//Init the logging function
func Init(
	traceHandle io.Writer,
	infoHandle io.Writer,
	warningHandle io.Writer,
	errorHandle io.Writer) {

	Trace = log.New(traceHandle, "[*] ", 0)
	Info = log.New(infoHandle, "[+] ", 0)
	Fail = log.New(infoHandle, "[x] ", 0)
	Question = log.New(infoHandle, "[?] ", 0)
	Warning = log.New(warningHandle,
		"[WARNING] ", 0)

	Error = log.New(errorHandle,
		"ERROR: ", log.Ldate|log.Ltime)
}

//InitDebug enables the hex dumps of wire buffers
func InitDebug(debugHandle io.Writer) {
	Debug = log.New(debugHandle, "[d] ", 0)
}
