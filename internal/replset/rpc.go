package replset

import (
	"fmt"
	"strings"
)

// rpcURL builds the URL for an inter-member RPC, accepting either a bare
// host:port or a full scheme already attached.
func rpcURL(addr, path string) string {
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = fmt.Sprintf("http://%s", url)
	}
	return strings.TrimRight(url, "/") + path
}
