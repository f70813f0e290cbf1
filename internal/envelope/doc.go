// Package envelope defines the command envelope: the request/response
// records exchanged between clients, the executor, and peer nodes, plus the
// wire codec that frames them as
//
//	VERB [ARGS]\r\n
//	Key: Value\r\n
//	\r\n
//	<body of Content-Length bytes>
//
// Responses reuse the same frame with a status line (e.g. "200 OK") in
// place of the method line.
package envelope
