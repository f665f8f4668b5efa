package ir

// EngineVersion is stamped into the metadata of every task the engine
// creates.
const EngineVersion = "0.1.0"
