package scanning

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strconv"
)

// CharWhitelist limits recognition to characters that appear on receipts
const CharWhitelist = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz.,/$:-() "

const (
	// pageSegMode 6 treats the image as a single uniform block of text
	pageSegMode = 6
	// engineMode 3 lets tesseract pick between legacy and LSTM
	engineMode = 3
)

// Runner executes an external command
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Tesseract implements the Engine interface using the tesseract binary
type Tesseract struct {
	cmd    string
	lang   string
	runner Runner
}

// NewTesseract creates a Tesseract engine. An empty cmd uses "tesseract" from PATH.
func NewTesseract(cmd string) *Tesseract {
	return NewTesseractWithRunner(cmd, execRunner{})
}

// NewTesseractWithRunner creates a Tesseract engine with a custom runner for testing
func NewTesseractWithRunner(cmd string, runner Runner) *Tesseract {
	if cmd == "" {
		cmd = "tesseract"
	}
	return &Tesseract{cmd: cmd, lang: "eng", runner: runner}
}

// Recognize writes the image to a temporary PNG and runs tesseract over it
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (string, error) {
	pngData, err := encodePNG(img)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "receipt-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(pngData); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	out, errb, err := t.runner.Run(ctx, t.cmd, t.args(tmp.Name())...)
	if err != nil {
		return "", fmt.Errorf("running tesseract: %w: %s", err, bytes.TrimSpace(errb))
	}
	return string(out), nil
}

// args builds: tesseract <file> stdout -l eng --oem 3 --psm 6 -c tessedit_char_whitelist=...
func (t *Tesseract) args(path string) []string {
	return []string{
		path, "stdout",
		"-l", t.lang,
		"--oem", strconv.Itoa(engineMode),
		"--psm", strconv.Itoa(pageSegMode),
		"-c", "tessedit_char_whitelist=" + CharWhitelist,
	}
}

// Close is a no-op; each call runs a separate process
func (t *Tesseract) Close() error {
	return nil
}
