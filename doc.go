// Package zipentry reads and writes the per-entry structure of ZIP archives:
// local file headers, extra-field extensions, encryption framing, data
// descriptors and central directory records.
//
// # Writing
//
// A [Writer] writes entries strictly one after another. On a seekable output
// each header is written with zeroed CRC and sizes and patched in place once
// the data is written; on a forward-only output the header carries flag bit 3
// and a data descriptor follows the data:
//
//	w := zipentry.NewWriter(out, zipentry.WithZip64(zipentry.Zip64AsNecessary))
//	err := w.WriteEntry(ctx, &zipentry.Entry{
//	    Name:     "hello.txt",
//	    Modified: time.Now(),
//	    Open:     func() (io.ReadCloser, error) { return os.Open("hello.txt") },
//	})
//	...
//	err = w.Close() // central directory and end records
//
// Entries whose deflated form does not shrink are rewritten as Store when the
// output can seek; see [WithRetry].
//
// # Reading
//
// A [Reader] parses local headers from any [Source]:
//
//	r := zipentry.NewReader(src)
//	for {
//	    e, err := r.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	    rc, err := r.Open(e, password)
//	}
//
// Opening an entry decrypts, inflates and verifies it; CRC, size and MAC
// failures surface as [ErrIntegrity] from Read.
//
// # Copying
//
// Entries returned by a Reader can be passed to [Writer.WriteEntry]. Unless
// Dirty is set, their bytes are copied unchanged, unknown extra blocks
// included.
package zipentry
