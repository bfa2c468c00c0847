package cos

import (
	"crypto/rand"
)

const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const LenUUID = 9

// GenUUID generates a short, registry-unique id for a node/port/link, in the
// same alphabet and length as the teacher's shortid-based GenUUID, but
// backed by crypto/rand directly: the media graph core has no need for
// shortid's worker/seed scheme (that existed to keep ids unique across a
// whole aistore cluster of independently-seeded processes), so that
// dependency is dropped -- see DESIGN.md.
func GenUUID() string {
	b := make([]byte, LenUUID)
	_, _ = rand.Read(b)
	out := make([]byte, LenUUID)
	for i, c := range b {
		out[i] = uuidABC[int(c)%len(uuidABC)]
	}
	return string(out)
}

func IsValidUUID(uuid string) bool {
	if len(uuid) < LenUUID {
		return false
	}
	for i := 0; i < len(uuid); i++ {
		c := uuid[i]
		ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
		if !ok {
			return false
		}
	}
	return true
}
