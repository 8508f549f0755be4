// Package transcribe implements the transcription stage on top of the
// whisper.cpp command line tool.
package transcribe
