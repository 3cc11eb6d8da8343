// # Realtime middle tier for voice RAG assistants
//
// Package realtime relays browser WebSocket sessions to an Azure OpenAI
// realtime deployment. The middle tier owns the system message and the tool
// registry: it forces both into every session.update, hides them from
// session.created, and executes the function calls the model makes without the
// browser ever seeing them. Tool results either go back to the model
// (ToServer) or are delivered to the browser as an
// extension.middle_tier_tool_response event (ToClient).
//
// The ragtools package registers the search and report_grounding tools backed
// by Azure AI Search, and cmd/server wires everything behind a gin server.
package realtime
