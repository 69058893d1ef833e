package todo

import (
	"context"
	mathrand "math/rand"
	"strconv"

	"taskhive.org/internal/obs"
)

// generateCode builds a four digit one-time code with no repeated digit.
func generateCode() string {
	digits := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	mathrand.Shuffle(len(digits), func(i, j int) {
		digits[i], digits[j] = digits[j], digits[i]
	})
	code := ""
	for _, d := range digits[:4] {
		code += strconv.Itoa(d)
	}
	return code
}

// LogSender is a CodeSender stand-in for the SMS gateway: it generates
// the code and writes it to the service log. Use only in development.
type LogSender struct{}

func (LogSender) Send(_ context.Context, phone int64) (string, error) {
	code := generateCode()
	obs.LogRequest(map[string]any{
		"level": "debug",
		"msg":   "login code issued",
		"phone": phone,
		"code":  code,
	})
	return code, nil
}
