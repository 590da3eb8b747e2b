//go:build cgo

package main

/*
#cgo CFLAGS: -Wall -Wextra
#include <stdlib.h>
#include <string.h>
*/
import "C"
import (
	"unsafe"
)

//export Init
// Init opens the session described by the config file at configPath (may
// be empty) and starts background sync. Returns 1 on success.
func Init(configPath *C.char) int32 {
	if core.init(C.GoString(configPath)) {
		return 1
	}
	return 0
}

//export Cleanup
// Cleanup stops background sync and closes the database.
func Cleanup() {
	core.close()
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	return C.CString(core.lastError())
}

// result converts a bridge result; failures return NULL.
func result(data string, ok bool) *C.char {
	if !ok {
		return nil
	}
	return C.CString(data)
}

func flag(ok bool) int32 {
	if ok {
		return 1
	}
	return 0
}

// =====================================================
// Record Operations
// =====================================================

//export RecordList
// RecordList returns the records of a resource as a JSON array.
// Returns JSON string that must be freed by the caller.
func RecordList(resource *C.char) *C.char {
	return result(core.list(C.GoString(resource)))
}

//export RecordCreate
// RecordCreate creates a record. kind is "", "upload" or "payment".
// Returns JSON string that must be freed by the caller.
func RecordCreate(resource, kind, body *C.char) *C.char {
	return result(core.create(C.GoString(resource), C.GoString(kind), C.GoString(body)))
}

//export RecordUpdate
// RecordUpdate patches a record.
// Returns JSON string that must be freed by the caller.
func RecordUpdate(resource, id, body *C.char) *C.char {
	return result(core.update(C.GoString(resource), C.GoString(id), C.GoString(body)))
}

//export RecordChangeStatus
// RecordChangeStatus sets the status field of a record.
// Returns JSON string that must be freed by the caller.
func RecordChangeStatus(resource, id, status *C.char) *C.char {
	return result(core.changeStatus(C.GoString(resource), C.GoString(id), C.GoString(status)))
}

//export RecordDelete
// RecordDelete removes a record. Returns 1 on success.
func RecordDelete(resource, id *C.char) int32 {
	return flag(core.remove(C.GoString(resource), C.GoString(id)))
}

// =====================================================
// Sync Operations
// =====================================================

//export SyncStatus
// SyncStatus returns connectivity, queue and guard state as JSON.
func SyncStatus() *C.char {
	return result(core.status())
}

//export SyncNow
// SyncNow runs a drain pass and returns its report as JSON.
func SyncNow() *C.char {
	return result(core.syncNow())
}

//export SetOnline
// SetOnline forwards the platform connectivity signal (1 online, 0 offline).
func SetOnline(online int32) int32 {
	return flag(core.setOnline(online != 0))
}

// =====================================================
// Memory Management Helpers
// =====================================================

//export FreeString
// FreeString frees a string allocated by Go.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}
