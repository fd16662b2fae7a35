// Package mail delivers the transactional messages sent by the auth core.
//
// [Dispatcher] is the only contract the engine depends on. [SMTPDispatcher]
// delivers through an SMTP relay with github.com/wneessen/go-mail, and
// [LogDispatcher] records messages in process for development and tests.
// [RenderResetEmail] builds the password recovery message.
package mail
