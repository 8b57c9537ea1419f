// Package server exposes the pipeline over HTTP.
//
// A single run may execute at a time. Uploading starts a run in the
// background and returns its id; clients poll the run, follow its progress
// over a websocket, and download the subtitle artifact when it completes.
// Only the most recent run is retained, and it is discarded once its artifact
// has been downloaded or a new upload replaces it.
//
// Routes:
//
//	POST /api/transcriptions                    multipart upload ("file") + options
//	GET  /api/transcriptions/{id}               run state and segments
//	GET  /api/transcriptions/{id}/subtitles     ?format=srt|txt&speakers=true
//	GET  /api/transcriptions/{id}/events        websocket progress stream
//	GET  /healthz                               preflight results
//	GET  /metrics                               Prometheus exposition (optional)
package server
