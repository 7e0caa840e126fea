package compliance

// Suggested controls and recommended actions are fixed templates keyed by
// risk level.
var controlTemplates = map[RiskLevel][]string{
	RiskAcceptable: {
		"Mantener los controles existentes y el registro de la denuncia.",
		"Reforzar la difusión del protocolo de prevención.",
	},
	RiskTolerable: {
		"Revisar el cumplimiento del protocolo de prevención en el área involucrada.",
		"Capacitar a las jefaturas del área en el procedimiento de investigación.",
		"Programar seguimiento del caso dentro de 30 días.",
	},
	RiskImportant: {
		"Adoptar medidas de resguardo para la persona denunciante.",
		"Revisar los controles del modelo de prevención de delitos aplicables.",
		"Informar al encargado de prevención de delitos.",
		"Documentar toda la evidencia bajo cadena de custodia.",
	},
	RiskIntolerable: {
		"Adoptar medidas de resguardo inmediatas y separación de espacios.",
		"Suspender las facultades de la persona denunciada que permitan reiterar la conducta.",
		"Informar de inmediato al directorio y al encargado de prevención de delitos.",
		"Preservar la evidencia y restringir el acceso a la información del caso.",
	},
}

var actionTemplates = map[RiskLevel][]string{
	RiskAcceptable: {
		"Continuar el procedimiento ordinario.",
	},
	RiskTolerable: {
		"Continuar el procedimiento ordinario con revisión de plazos.",
		"Evaluar la necesidad de medidas de resguardo.",
	},
	RiskImportant: {
		"Priorizar la investigación y asignar investigador con experiencia.",
		"Evaluar la denuncia a la Dirección del Trabajo.",
		"Solicitar asesoría legal.",
	},
	RiskIntolerable: {
		"Escalar al comité de ética dentro de 24 horas.",
		"Evaluar la denuncia ante el Ministerio Público.",
		"Solicitar asesoría legal externa.",
		"Notificar a la Dirección del Trabajo y a la SUSESO según corresponda.",
	},
}

// SuggestedControls returns a copy of the control templates for level.
func SuggestedControls(level RiskLevel) []string {
	return append([]string(nil), controlTemplates[level]...)
}

// RecommendedActions returns a copy of the action templates for level.
func RecommendedActions(level RiskLevel) []string {
	return append([]string(nil), actionTemplates[level]...)
}
