// Package main provides C-compatible library exports for a mobile or
// desktop shell to embed the SCMessenger core over cgo: identity
// lifecycle, message send, and the two inbound hooks a platform-native
// transport driver (BLE, Wi-Fi Aware) calls with discovered peers and
// received bytes.
package main

import "C"

import (
	"context"
	"encoding/json"
	"sync"
	"unsafe"

	"github.com/scmessenger/core/internal/config"
	"github.com/scmessenger/core/pkg/ironcore"
)

var (
	coreMu  sync.Mutex
	core    *ironcore.Core
	coreCtx context.Context
	cancel  context.CancelFunc
)

// Version returns the library version.
//
//export SCVersion
func SCVersion() *C.char {
	return C.CString("1.0.0")
}

// Init opens the façade rooted at storageRoot, auto-initializing an
// identity on first run. It is safe to call again after Shutdown.
//
//export SCInit
func SCInit(storageRoot *C.char) C.int {
	coreMu.Lock()
	defer coreMu.Unlock()

	cfg, err := config.Load()
	if err != nil {
		return -1
	}
	if storageRoot != nil {
		if root := C.GoString(storageRoot); root != "" {
			cfg.StorageRoot = root
		}
	}

	c, err := ironcore.WithStorage(cfg)
	if err != nil {
		return -1
	}
	core = c
	return 0
}

// Start brings up the mesh service over the façade's default transport.
//
//export SCStart
func SCStart() C.int {
	coreMu.Lock()
	defer coreMu.Unlock()
	if core == nil {
		return -1
	}
	coreCtx, cancel = context.WithCancel(context.Background())
	if err := core.Start(coreCtx); err != nil {
		return -1
	}
	return 0
}

// Stop brings the mesh service back down to Stopped.
//
//export SCStop
func SCStop() C.int {
	coreMu.Lock()
	defer coreMu.Unlock()
	if core == nil {
		return -1
	}
	if cancel != nil {
		defer cancel()
	}
	if err := core.Stop(context.Background()); err != nil {
		return -1
	}
	return 0
}

// Shutdown releases the façade so the host can call Init again.
//
//export SCShutdown
func SCShutdown() {
	coreMu.Lock()
	defer coreMu.Unlock()
	core = nil
}

// GetIdentityInfo returns the node's Identity as a JSON string, or an
// empty string on error. The caller owns the returned C string.
//
//export SCGetIdentityInfo
func SCGetIdentityInfo() *C.char {
	coreMu.Lock()
	c := core
	coreMu.Unlock()
	if c == nil {
		return C.CString("")
	}
	info, err := c.GetIdentityInfo()
	if err != nil {
		return C.CString("")
	}
	data, err := json.Marshal(info)
	if err != nil {
		return C.CString("")
	}
	return C.CString(string(data))
}

// SendMessage runs the façade's gated send path and returns the new
// message ID, or an empty string if the send was refused (relay
// disabled, unknown contact, oversized payload).
//
//export SCSendMessage
func SCSendMessage(peerID, text *C.char) *C.char {
	coreMu.Lock()
	c := core
	coreMu.Unlock()
	if c == nil {
		return C.CString("")
	}
	messageID, err := c.SendMessage(C.GoString(peerID), C.GoString(text))
	if err != nil {
		return C.CString("")
	}
	return C.CString(messageID)
}

// OnPeerDiscovered is the host -> core hook a platform-native transport
// driver calls when its own discovery mechanism sees a peer.
//
//export SCOnPeerDiscovered
func SCOnPeerDiscovered(peerID *C.char) {
	coreMu.Lock()
	c := core
	coreMu.Unlock()
	if c == nil {
		return
	}
	c.OnPeerDiscovered(C.GoString(peerID))
}

// OnDataReceived is the host -> core hook for inbound transport bytes,
// copied out of the caller-owned buffer before being handed to the
// façade so the C side remains free to reuse or release data.
//
//export SCOnDataReceived
func SCOnDataReceived(peerID *C.char, data unsafe.Pointer, length C.int) {
	coreMu.Lock()
	c := core
	coreMu.Unlock()
	if c == nil || length <= 0 {
		return
	}
	buf := make([]byte, int(length))
	copy(buf, unsafe.Slice((*byte)(data), int(length)))
	c.OnDataReceived(C.GoString(peerID), buf)
}

func main() {
	// Required for buildmode=c-shared/c-archive.
}
