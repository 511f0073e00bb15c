// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

/*
Package services adapts components whose lifecycle does not already match
suture.Service.

  - HTTPServerService: runs ListenAndServe and calls Shutdown with a grace
    period when the supervisor stops it.
  - HubService: runs the WebSocket hub's RunWithContext.

The polling registry and the backup scheduler implement Serve and String
themselves and are added to the tree directly.
*/
package services
