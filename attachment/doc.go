// Package attachment implements the attachment record lifecycle on top of the
// registry's storage backends and representation handlers.
//
// # Storage Layout
//
// The primary file of attachment 12345 named "my_photo__.png" lives at
//
//	1/2345/my_photo__.png
//
// and its derived representations are stored next to it:
//
//	1/2345/my_photo___image_100.jpg
//
// A representation key is built from the filename without extension, the
// representation type and the values of the request options (excluding
// "extension") in ascending option-name order. The joined key indexes the
// attachment's representations map, so a repeated request with the same
// options is served from the map without invoking any handler.
//
// # Sequencing
//
// On create the record is persisted before its bytes are stored; on destroy
// the bytes are removed before the record. A failed backend destroy keeps the
// record so the operation can be retried.
package attachment
