// Package httpapi exposes the monitor core over JSON HTTP.
//
// Every response uses one envelope:
//
//	{"status":"success","data":...}
//	{"status":"error","error":{"code":"NOT_FOUND","message":"..."}}
package httpapi
