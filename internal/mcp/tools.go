package mcp

import "github.com/mark3labs/mcp-go/mcp"

const sessionArgDescription = "Session name (default: \"default\"). Names are trimmed and lowercased."

const sequenceArgDescription = "Protein input: raw residues, single-record FASTA, or a 4-character PDB accession."

var normalizeToolDef = mcp.NewTool("sequence_normalize",
	mcp.WithDescription("Normalize protein input to uppercase one-letter residues. "+
		"FASTA headers and non-alphabet characters are removed. Accessions are reported, not resolved."),
	mcp.WithString("sequence", mcp.Required(), mcp.Description(sequenceArgDescription)),
)

var analyzeToolDef = mcp.NewTool("protein_analyze",
	mcp.WithDescription("Compute ProtParam-style properties for one sequence: molecular weight, "+
		"isoelectric point, extinction coefficients, GRAVY and amino-acid composition. "+
		"Accessions are fetched from RCSB first."),
	mcp.WithString("sequence", mcp.Required(), mcp.Description(sequenceArgDescription)),
)

var predictToolDef = mcp.NewTool("structure_predict",
	mcp.WithDescription("Predict the 3D structure of one sequence without storing it in a session. "+
		"Blocks until the prediction finishes. Uses the mock predictor when no API key is configured."),
	mcp.WithString("sequence", mcp.Required(), mcp.Description(sequenceArgDescription)),
	mcp.WithBoolean("include_structure", mcp.Description("Include the structure file content in the result (default: false).")),
)

var sessionAddToolDef = mcp.NewTool("session_add",
	mcp.WithDescription("Add a sequence slot to a session. The session is created when missing. "+
		"An empty first slot is reused."),
	mcp.WithString("session", mcp.Description(sessionArgDescription)),
	mcp.WithString("sequence", mcp.Required(), mcp.Description(sequenceArgDescription)),
)

var sessionListToolDef = mcp.NewTool("session_list",
	mcp.WithDescription("List the slots of a session with their prediction status. "+
		"Pending predictions are processed first."),
	mcp.WithString("session", mcp.Description(sessionArgDescription)),
)

var sessionRemoveToolDef = mcp.NewTool("session_remove",
	mcp.WithDescription("Remove a slot from a session. Later slots shift down. The first slot cannot be removed."),
	mcp.WithString("session", mcp.Description(sessionArgDescription)),
	mcp.WithNumber("slot", mcp.Required(), mcp.Description("Zero-based slot index.")),
)

var sessionPredictToolDef = mcp.NewTool("session_predict",
	mcp.WithDescription("Submit one slot, or every slot when slot is omitted, and run the predictions. "+
		"Submitting every slot fails without changes unless all slots are ready."),
	mcp.WithString("session", mcp.Description(sessionArgDescription)),
	mcp.WithNumber("slot", mcp.Description("Zero-based slot index. Omit to submit all slots.")),
)

var sessionAnalyzeToolDef = mcp.NewTool("session_analyze",
	mcp.WithDescription("Analyze every slot of a session and the concatenation of all of them."),
	mcp.WithString("session", mcp.Description(sessionArgDescription)),
)

var sessionAffinityToolDef = mcp.NewTool("session_affinity",
	mcp.WithDescription("Pairwise similarity matrix over the successfully predicted slots of a session. "+
		"Requires at least two predictions."),
	mcp.WithString("session", mcp.Description(sessionArgDescription)),
)
