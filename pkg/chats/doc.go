// Package chats provides the provider-agnostic conversation model shared by
// every backend adapter.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/switchboard/pkg/chats/role]: conversation roles (system, user, assistant, tool)
//   - [github.com/germanamz/switchboard/pkg/chats/content]: message parts (text, files, tool calls and results, reasoning, control markers)
//   - [github.com/germanamz/switchboard/pkg/chats/message]: messages composed of a role and content parts
//   - [github.com/germanamz/switchboard/pkg/chats/chat]: mutable conversation container
//   - [github.com/germanamz/switchboard/pkg/chats/event]: canonical stream events produced by decoders
//
// No provider or API code is included. chats is a foundation layer that
// adapters build on.
package chats
