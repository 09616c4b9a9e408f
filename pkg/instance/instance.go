package instance

import (
	"os"
	"strings"
	"sync"

	"github.com/angelmondragon/medcart/pkg/env"
	"github.com/google/uuid"
)

// EnvInstanceID overrides the generated client instance identifier.
const EnvInstanceID = "MEDCART_INSTANCE_ID"

var (
	once sync.Once
	id   string
)

// GetID returns the identifier this process stamps on the change events it
// emits. It is stable for the life of the process.
func GetID() string {
	once.Do(func() {
		id = resolve(os.Hostname, uuid.NewString)
	})
	return id
}

func resolve(hostname func() (string, error), suffix func() string) string {
	if v := env.Get(EnvInstanceID, ""); v != "" {
		return v
	}
	host, err := hostname()
	host = strings.TrimSpace(host)
	if err != nil || host == "" {
		host = "medcart"
	}
	s := suffix()
	if len(s) > 8 {
		s = s[:8]
	}
	return host + "-" + s
}
