// Package job runs orchestrations asynchronously. Submitted runs are stored
// with a TTL, published to a queue (memory, Redis list, or RabbitMQ), and
// executed by a Processor. Jobs are never retried: an orchestration pays
// agents, so re-running a failed job could pay them twice.
package job
