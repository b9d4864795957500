package link

import (
	"fmt"
	"strings"
	"sync"
)

// claims tracks ports held by this process.
var claims = struct {
	sync.Mutex
	held map[string]struct{}
}{held: make(map[string]struct{})}

// claimPort reserves name for exclusive use, in this process and, where the
// platform supports it, across processes. The returned release is idempotent.
func claimPort(name string) (func(), error) {
	claims.Lock()
	defer claims.Unlock()

	if _, held := claims.held[name]; held {
		return nil, fmt.Errorf("%s is already open in this process", name)
	}

	unlock, err := lockDevice(name)
	if err != nil {
		return nil, err
	}
	claims.held[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlock()
			claims.Lock()
			delete(claims.held, name)
			claims.Unlock()
		})
	}, nil
}

// lockName maps a device path to a lock file name.
func lockName(device string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return "gstream-" + strings.TrimLeft(r.Replace(device), "_") + ".lock"
}
