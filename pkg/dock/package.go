package dock

import "log"

const maxPackageChunk = 512

// sendPackageTask drives the multi-tick package transfer started by
// handleLoadPackageFile, mirroring Dock::send_package_task's three
// states: open-and-send-header, stream-chunks, close. The header and
// every chunk but the last carry no FRAME_END; only the final chunk
// does, so the whole transfer rides inside one ongoing MNP frame
// bracket from the session's point of view.
func (e *Engine) sendPackageTask() {
	switch e.task {
	case taskSendPackage:
		if err := e.Storage.OpenFile(e.pkgFilename); err != nil {
			log.Printf("dock: openfile %q: %v", e.pkgFilename, err)
			e.sendDres(-48403) // file not found
			e.task = taskNone
			return
		}
		e.pkgSize = e.Storage.FileSize()
		e.pkgSizeAligned = (e.pkgSize + 3) &^ 3
		e.pkgCursor = 0

		header := make([]byte, 16)
		copy(header, magic)
		copy(header[8:12], "lpkg")
		header[12] = byte(e.pkgSize >> 24)
		header[13] = byte(e.pkgSize >> 16)
		header[14] = byte(e.pkgSize >> 8)
		header[15] = byte(e.pkgSize)
		e.enqueue(header, true, false)
		e.task = taskContinueSendPackage

	case taskContinueSendPackage:
		readSize := e.pkgSize - e.pkgCursor
		if readSize > maxPackageChunk {
			readSize = maxPackageChunk
		}
		chunkSize := readSize
		e.pkgCursor += readSize
		last := e.pkgCursor >= e.pkgSize
		if last {
			chunkSize += e.pkgSizeAligned - e.pkgSize
		}
		buf := make([]byte, chunkSize)
		n, err := e.Storage.ReadFile(buf[:readSize])
		if err != nil || uint32(n) != readSize {
			log.Printf("dock: readfile %q: read %d of %d: %v", e.pkgFilename, n, readSize, err)
		}
		e.enqueue(buf, false, last)
		if last {
			e.task = taskPackageSent
		}

	case taskPackageSent:
		e.Storage.CloseFile()
		e.task = taskNone
	}
}
