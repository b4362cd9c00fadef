package plc

var Classify = classify
