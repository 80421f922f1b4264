// Package flowbot answers analyst questions about model predictions.
//
// A question may reference a prediction (raw scores from a vision, audio,
// medical or tabular model). flowbot calibrates the prediction into a
// confidence report, retrieves supporting documents from an in-process vector
// index and asks a generation backend for a grounded answer. Low confidence,
// out-of-distribution inputs and empty retrieval are reported as fallback
// reasons on the answer instead of failing the call.
//
//	client, _ := flowbot.New(
//	    flowbot.WithEmbedder(myEmbedder, 1536),
//	    flowbot.WithGenerator(myGenerator),
//	)
//	defer client.Close()
//
//	_, _ = client.RegisterModel(ctx, flowbot.ModelParams{ModelID: "resnet", Modality: flowbot.Vision})
//	_, _ = client.IngestDocuments(ctx, docs)
//	ans, _ := client.Ask(ctx, flowbot.Question{
//	    Text:       "Why was this scan flagged?",
//	    Prediction: &flowbot.Prediction{Modality: flowbot.Vision, RawScores: scores, ModelID: "resnet"},
//	})
package flowbot
