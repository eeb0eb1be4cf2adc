// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// stelliberty-hub carries control traffic between the Stelliberty front
// end, the proxy core, and the privileged helper service.
//
// Usage:
//
//	stelliberty-hub serve [--config PATH]
//	stelliberty-hub request [--config PATH] [--body JSON] METHOD PATH
//	stelliberty-hub service status|start|stop|ping|logs [flags]
//	stelliberty-hub version
//
// serve reads newline-delimited JSON messages from stdin and writes
// events to stdout until stdin closes or the process is signalled.
// request and service are diagnostic commands that talk to the core
// or the helper directly.
package main
