// Package terminal binds interactive client connections to live programs.
//
// A session starts Idle. A project payload moves it through Compiling to
// Running; while Running every client message is written verbatim to the
// program's stdin and the program's output is streamed back as it is
// produced. When the program exits the session returns to Idle. Closing a
// session kills any program still attached to it.
package terminal
