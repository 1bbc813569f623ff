// Package ws hosts isolated gadgets for remote parent pages.
//
// A parent configured with remote frames dials /frame?url=&session= for
// every iframe or dataurl gadget it declares. The connection is upgraded to
// a websocket, wrapped as a channel transport and handed to a fresh page
// that runs the gadget. The page announces its methods, answers method
// calls and forwards unclaimed acquisitions to the parent until either side
// closes the connection.
//
// Example Usage:
//
//	handler := ws.NewHandler(pages, logger)
//	router.GET("/frame", handler.HandleConnection)
package ws
