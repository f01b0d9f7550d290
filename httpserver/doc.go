/*
Package httpserver exposes the attachment service over HTTP.

API Endpoints:

  - POST /api/attachments - Upload a file into an owner slot (multipart form)
  - GET /api/attachments/{id} - Attachment metadata and public URL
  - POST /api/attachments/{id}/data - Replace the file of an attachment
  - GET /api/attachments/{id}/representations/{type} - Representation URL, generated on first request
  - POST /api/attachments/{id}/migrate - Move the file to another storage backend
  - DELETE /api/attachments/{id}/representations - Remove every stored representation
  - DELETE /api/attachments/{id} - Remove the file and its record
  - GET /api/owners/{kind}/{id}/{relationship} - Attachments of an owner slot
  - GET /livez - Liveness check
  - GET /readyz - Readiness check, fails while draining or when a storage backend is unavailable
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

The upload form carries the file in the "file" field and the owner slot in
"owner_kind", "owner_id" and "relationship". An optional "storage" field
names the backend; otherwise the registry default is used.

Representation options are taken from the query string, for example

	GET /api/attachments/12345/representations/image?width=100&extension=jpg

answers {"url": "/images/attachments/1/2345/my_photo___image_100.jpg"}, or
302 to that URL with redirect=true. A representation that no handler can
produce is a 404.

Errors map to status codes as follows: validation failures are 400, unknown
attachments are 404 and storage backend failures are 502.
*/
package httpserver
