// Command libp2p-chat builds the chat node as a C shared library:
//
//	go build -buildmode=c-shared -o libp2p_chat.so ./cmd/libp2p-chat
//
// The declarations callers need are in include/libp2p_chat.h. The library
// allocates every handle; libp2p_chat_stop invalidates the run handle and
// libp2p_chat_free the node handle. Callers own their buffers.
package main

/*
#include <stddef.h>
#include <stdint.h>
*/
import "C"

import (
	"unsafe"

	"github.com/zot/p2p-chat/internal/bridge"
)

//export libp2p_chat_enable_logs
func libp2p_chat_enable_logs() C.int {
	if err := bridge.Default.EnableLogs(); err != nil {
		return -1
	}
	return C.int(bridge.StatusOK)
}

//export libp2p_chat_new
func libp2p_chat_new() C.uint64_t {
	h, err := bridge.Default.Construct()
	if err != nil {
		return 0
	}
	return C.uint64_t(h)
}

//export libp2p_chat_start
func libp2p_chat_start(h C.uint64_t, port C.ushort) C.uint64_t {
	r, err := bridge.Default.Start(bridge.Handle(h), uint16(port))
	if err != nil {
		return 0
	}
	return C.uint64_t(r)
}

//export libp2p_chat_publish
func libp2p_chat_publish(h C.uint64_t, data unsafe.Pointer, size C.size_t) C.int {
	if st := bridge.CheckPublishSize(uint64(size)); st != bridge.StatusOK {
		return C.int(st)
	}
	var payload []byte
	if data != nil && size > 0 {
		payload = C.GoBytes(data, C.int(size))
	}
	return C.int(bridge.Default.Publish(bridge.Handle(h), payload))
}

//export libp2p_chat_receive
func libp2p_chat_receive(h C.uint64_t, buf unsafe.Pointer, size C.size_t) C.int {
	var dst []byte
	if buf != nil && size > 0 {
		dst = unsafe.Slice((*byte)(buf), bridge.ReceiveWindow(uint64(size)))
	}
	return C.int(bridge.Default.Receive(bridge.Handle(h), dst))
}

//export libp2p_chat_stop
func libp2p_chat_stop(h C.uint64_t, r C.uint64_t) C.int {
	return C.int(bridge.Default.Stop(bridge.Handle(h), bridge.RunHandle(r)))
}

//export libp2p_chat_free
func libp2p_chat_free(h C.uint64_t) C.int {
	return C.int(bridge.Default.Free(bridge.Handle(h)))
}

func main() {}
