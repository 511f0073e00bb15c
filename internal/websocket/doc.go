// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

/*
Package websocket is the subscription transport: browsers connect, subscribe
to topics and receive the events published on them.

# Protocol

Clients send JSON messages with a type and, for subscriptions, a topic:

	{"type":"subscribe","topic":"CPU_UTILIZATION"}
	{"type":"subscribe","topic":"BACKUP_JOB_PROGRESS:42"}
	{"type":"unsubscribe","topic":"CPU_UTILIZATION"}
	{"type":"ping"}

The server answers with subscribed, unsubscribed, pong or error messages and
forwards every event as

	{"type":"event","topic":"CPU_UTILIZATION","data":{...}}

# Subscription Accounting

Each client holds a set of topics. The first subscribe of a topic by a client
calls SubscriptionTracker.Subscribe, so the producer starts on the first
subscriber across all clients. Unsubscribe, disconnect and hub shutdown call
SubscriptionTracker.Unsubscribe exactly once per held topic. Repeating a
subscribe for a topic the client already holds is acknowledged without
counting it twice.

The pub/sub subscription for a topic is opened before the tracker is told
about the new subscriber, so the producer's first event is not missed.

# Supervision

RunWithContext blocks until its context is cancelled and then closes every
client, releasing their subscriptions. It is meant to run under a suture
supervisor (see internal/supervisor/services).
*/
package websocket
