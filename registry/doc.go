// Package registry holds the process-wide attachment configuration: named
// storage backends, representation handlers per representation type, the
// default backend name and the representation locking switch.
//
// A Registry is built once at startup and injected into the attachment
// service. It is not safe for mutation while requests are being served;
// registration belongs to setup code.
//
//	reg := registry.New()
//	reg.RegisterStorageBackend("local", fileBackend)
//	reg.RegisterRepresentationHandler("image", representation.NewThumbnailHandler("", 0, log))
//	reg.SetDefaultStorageName("local")
package registry
