// Package flows holds the orchestration behind every Engine operation.
//
// Each Run function takes the shared [Deps] and composes store
// transactions, token minting, hashing, notification and audit for one
// operation. Flows hold no state between calls; the Engine owns every
// resource and builds Deps once.
package flows
