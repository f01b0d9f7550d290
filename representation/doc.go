// Package representation provides handlers that derive secondary artifacts,
// such as resized thumbnails, from an attachment's primary file.
//
// A handler returns a local artifact file, or nil to let the next registered
// handler try. Failed external steps are logged and reported as nil; they
// never fail the request.
package representation
