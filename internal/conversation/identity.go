package conversation

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// newSessionID 生成会话标识：优先随机 UUID，失败时退到时间戳+随机串
// newSessionID prefers a cryptographically random UUID and falls back to a
// timestamp+random string when UUID generation is unavailable.
func newSessionID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("s-%d", time.Now().UnixMilli())
	}
	return fmt.Sprintf("s-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}
