package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize caps a single frame. Notification texts are short sentences;
// anything larger is a protocol error, not a payload.
const MaxFrameSize = 64 * 1024

var ErrFrameTooLarge = errors.New("ipc: frame too large")

// WriteFrame writes v as one newline-terminated JSON frame.
func WriteFrame(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: marshal frame: %w", err)
	}
	if len(b) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// readLine reads one frame line, enforcing MaxFrameSize.
func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, ErrFrameTooLarge
	}
	if err != nil {
		if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
			// Frame without trailing newline: accept it.
			return line, nil
		}
		return nil, err
	}
	return line, nil
}

// ReadRequest decodes one request frame. Unknown fields are rejected so a
// future incompatible frame shape fails loudly instead of half-parsing.
func ReadRequest(r io.Reader) (*Request, error) {
	br := bufio.NewReaderSize(r, MaxFrameSize)
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	// Omitted priority means medium, not the zero tier.
	req := Request{Priority: PriorityMedium}
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("ipc: decode request: %w", err)
	}
	return &req, nil
}

// ReadResponse decodes one response frame. Unknown fields are tolerated so
// older clients keep working when the daemon grows its reply.
func ReadResponse(r io.Reader) (*Response, error) {
	br := bufio.NewReaderSize(r, MaxFrameSize)
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("ipc: decode response: %w", err)
	}
	return &resp, nil
}
