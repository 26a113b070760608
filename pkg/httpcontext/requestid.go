package httpcontext

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const requestIDSuffixLen = 9

// NewRequestID builds a correlation id of the form req_<unix-millis>_<9 base36 chars>.
func NewRequestID() string {
	id := uuid.New()
	suffix := new(big.Int).SetBytes(id[:]).Text(36)
	if len(suffix) < requestIDSuffixLen {
		suffix = strings.Repeat("0", requestIDSuffixLen-len(suffix)) + suffix
	}
	return "req_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + suffix[:requestIDSuffixLen]
}
