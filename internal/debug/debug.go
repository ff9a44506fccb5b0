package debug

import (
	"bytes"
	"fmt"
	"net/http"
	"runtime"

	"github.com/uvcam/uvcam/internal/api"
)

func Init() {
	api.HandleFunc("api/stack", stackHandler)
}

// stackSkip hides goroutines that are supposed to be parked forever, so
// the dump shows only the interesting ones.
var stackSkip = [][]byte{
	// main.go
	[]byte("main.main()"),
	[]byte("created by os/signal.Notify"),

	// this handler
	[]byte("github.com/uvcam/uvcam/internal/debug.stackHandler"),

	// api listeners
	[]byte("created by github.com/uvcam/uvcam/internal/api.Init"),
	[]byte("created by net/http.(*connReader).startBackgroundRead"),
	[]byte("created by net/http.(*Server).Serve"),

	// mdns announcer
	[]byte("created by github.com/hashicorp/mdns.NewServer"),
}

func stackHandler(w http.ResponseWriter, r *http.Request) {
	sep := []byte("\n\n")
	buf := make([]byte, 65535)
	i := 0
	n := runtime.Stack(buf, true)
	skipped := 0
	for _, item := range bytes.Split(buf[:n], sep) {
		for _, skip := range stackSkip {
			if bytes.Contains(item, skip) {
				item = nil
				skipped++
				break
			}
		}
		if item != nil {
			i += copy(buf[i:], item)
			i += copy(buf[i:], sep)
		}
	}
	i += copy(buf[i:], fmt.Sprintf(
		"Total: %d, Skipped: %d", runtime.NumGoroutine(), skipped),
	)

	api.Response(w, buf[:i], api.MimeText)
}
