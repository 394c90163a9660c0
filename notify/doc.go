// Package notify delivers the account emails the engine produces:
// verification links and password reset links.
//
// [Sender] is the delivery contract. [SMTPSender] talks to a mail relay,
// [Queue] hands messages to a Redis list that a [Worker] drains with
// retries, and [LogSender] only logs, for development setups.
package notify
