package parser

import "github.com/dshills/codegraph/pkg/types"

// Each pattern is compiled on its own so a grammar that lacks one node type
// only loses that pattern.

var pythonDefinitions = []string{
	`(class_definition name: (identifier) @name) @definition.class`,
	`(function_definition name: (identifier) @name) @definition.function`,
	`(module (expression_statement (assignment left: (identifier) @name) @definition.variable))`,
	`(class_definition body: (block (expression_statement (assignment left: (identifier) @name) @definition.field)))`,
}

var pythonRelations = []Relation{
	{types.EdgeCall, `(call function: (identifier) @target)`},
	{types.EdgeCall, `(call function: (attribute attribute: (identifier) @target))`},
	{types.EdgeInheritance, `(class_definition name: (identifier) @source superclasses: (argument_list (identifier) @target))`},
	{types.EdgeInheritance, `(class_definition name: (identifier) @source superclasses: (argument_list (attribute attribute: (identifier) @target)))`},
	{types.EdgeImport, `(import_statement name: (dotted_name) @target)`},
	{types.EdgeImport, `(import_statement name: (aliased_import name: (dotted_name) @target))`},
	{types.EdgeImport, `(import_from_statement module_name: (dotted_name) @target)`},
	{types.EdgeImport, `(import_from_statement module_name: (relative_import) @target)`},
	{types.EdgeAnnotationUsage, `(decorator (identifier) @target)`},
	{types.EdgeAnnotationUsage, `(decorator (attribute attribute: (identifier) @target))`},
}

var javaDefinitions = []string{
	`(class_declaration name: (identifier) @name) @definition.class`,
	`(interface_declaration name: (identifier) @name) @definition.interface`,
	`(enum_declaration name: (identifier) @name) @definition.enum`,
	`(annotation_type_declaration name: (identifier) @name) @definition.annotation`,
	`(method_declaration name: (identifier) @name) @definition.method`,
	`(constructor_declaration name: (identifier) @name) @definition.method`,
	`(field_declaration declarator: (variable_declarator name: (identifier) @name)) @definition.field`,
	`(enum_constant name: (identifier) @name) @definition.enum_constant`,
}

var javaRelations = []Relation{
	{types.EdgeCall, `(method_invocation name: (identifier) @target)`},
	{types.EdgeCall, `(object_creation_expression type: (type_identifier) @target)`},
	{types.EdgeInheritance, `(class_declaration name: (identifier) @source superclass: (superclass (type_identifier) @target))`},
	{types.EdgeInheritance, `(class_declaration name: (identifier) @source interfaces: (super_interfaces (type_list (type_identifier) @target)))`},
	{types.EdgeInheritance, `(interface_declaration name: (identifier) @source (extends_interfaces (type_list (type_identifier) @target)))`},
	{types.EdgeImport, `(import_declaration (scoped_identifier) @target)`},
	{types.EdgeAnnotationUsage, `(marker_annotation name: (identifier) @target)`},
	{types.EdgeAnnotationUsage, `(annotation name: (identifier) @target)`},
}

var rustDefinitions = []string{
	`(mod_item name: (identifier) @name) @definition.module`,
	`(struct_item name: (type_identifier) @name) @definition.struct`,
	`(enum_item name: (type_identifier) @name) @definition.enum`,
	`(union_item name: (type_identifier) @name) @definition.union`,
	`(trait_item name: (type_identifier) @name) @definition.interface`,
	`(type_item name: (type_identifier) @name) @definition.typedef`,
	`(function_item name: (identifier) @name) @definition.function`,
	`(function_signature_item name: (identifier) @name) @definition.function`,
	`(const_item name: (identifier) @name) @definition.constant`,
	`(static_item name: (identifier) @name) @definition.variable`,
	`(macro_definition name: (identifier) @name) @definition.macro`,
	`(field_declaration name: (field_identifier) @name) @definition.field`,
	`(enum_variant name: (identifier) @name) @definition.enum_constant`,
	`(impl_item type: (type_identifier) @name) @scope`,
	`(impl_item type: (generic_type type: (type_identifier) @name)) @scope`,
}

var rustRelations = []Relation{
	{types.EdgeCall, `(call_expression function: (identifier) @target)`},
	{types.EdgeCall, `(call_expression function: (scoped_identifier) @target)`},
	{types.EdgeCall, `(call_expression function: (field_expression field: (field_identifier) @target))`},
	{types.EdgeInheritance, `(impl_item trait: (type_identifier) @target type: (type_identifier) @source)`},
	{types.EdgeMacroUsage, `(macro_invocation macro: (identifier) @target)`},
	{types.EdgeImport, `(use_declaration argument: (scoped_identifier) @target)`},
	{types.EdgeImport, `(use_declaration argument: (identifier) @target)`},
	{types.EdgeImport, `(use_declaration argument: (scoped_use_list path: (_) @target))`},
	{types.EdgeImport, `(use_declaration argument: (use_as_clause path: (_) @target))`},
}

var javascriptDefinitions = []string{
	`(class_declaration name: (identifier) @name) @definition.class`,
	`(function_declaration name: (identifier) @name) @definition.function`,
	`(generator_function_declaration name: (identifier) @name) @definition.function`,
	`(method_definition name: (property_identifier) @name) @definition.method`,
	`(variable_declarator name: (identifier) @name value: (arrow_function)) @definition.function`,
	`(variable_declarator name: (identifier) @name value: (function_expression)) @definition.function`,
	`(program (lexical_declaration (variable_declarator name: (identifier) @name) @definition.variable))`,
}

var javascriptRelations = []Relation{
	{types.EdgeCall, `(call_expression function: (identifier) @target)`},
	{types.EdgeCall, `(call_expression function: (member_expression property: (property_identifier) @target))`},
	{types.EdgeCall, `(new_expression constructor: (identifier) @target)`},
	{types.EdgeInheritance, `(class_declaration name: (identifier) @source (class_heritage (identifier) @target))`},
	{types.EdgeImport, `(import_statement source: (string) @target)`},
}

var typescriptDefinitions = []string{
	`(class_declaration name: (type_identifier) @name) @definition.class`,
	`(abstract_class_declaration name: (type_identifier) @name) @definition.class`,
	`(interface_declaration name: (type_identifier) @name) @definition.interface`,
	`(enum_declaration name: (identifier) @name) @definition.enum`,
	`(type_alias_declaration name: (type_identifier) @name) @definition.typedef`,
	`(internal_module name: (identifier) @name) @definition.namespace`,
	`(function_declaration name: (identifier) @name) @definition.function`,
	`(method_definition name: (property_identifier) @name) @definition.method`,
	`(method_signature name: (property_identifier) @name) @definition.method`,
	`(public_field_definition name: (property_identifier) @name) @definition.field`,
	`(property_signature name: (property_identifier) @name) @definition.field`,
	`(variable_declarator name: (identifier) @name value: (arrow_function)) @definition.function`,
	`(program (lexical_declaration (variable_declarator name: (identifier) @name) @definition.variable))`,
}

var typescriptRelations = []Relation{
	{types.EdgeCall, `(call_expression function: (identifier) @target)`},
	{types.EdgeCall, `(call_expression function: (member_expression property: (property_identifier) @target))`},
	{types.EdgeCall, `(new_expression constructor: (identifier) @target)`},
	{types.EdgeInheritance, `(class_declaration name: (type_identifier) @source (class_heritage (extends_clause value: (identifier) @target)))`},
	{types.EdgeInheritance, `(class_declaration name: (type_identifier) @source (class_heritage (implements_clause (type_identifier) @target)))`},
	{types.EdgeInheritance, `(interface_declaration name: (type_identifier) @source (extends_type_clause (type_identifier) @target))`},
	{types.EdgeImport, `(import_statement source: (string) @target)`},
}

var cDefinitions = []string{
	`(function_definition declarator: (function_declarator declarator: (identifier) @name)) @definition.function`,
	`(function_definition declarator: (pointer_declarator declarator: (function_declarator declarator: (identifier) @name))) @definition.function`,
	`(struct_specifier name: (type_identifier) @name body: (field_declaration_list)) @definition.struct`,
	`(union_specifier name: (type_identifier) @name body: (field_declaration_list)) @definition.union`,
	`(enum_specifier name: (type_identifier) @name body: (enumerator_list)) @definition.enum`,
	`(enumerator name: (identifier) @name) @definition.enum_constant`,
	`(type_definition declarator: (type_identifier) @name) @definition.typedef`,
	`(field_declaration declarator: (field_identifier) @name) @definition.field`,
	`(preproc_def name: (identifier) @name) @definition.macro`,
	`(preproc_function_def name: (identifier) @name) @definition.macro`,
	`(translation_unit (declaration declarator: (init_declarator declarator: (identifier) @name)) @definition.variable)`,
}

var cRelations = []Relation{
	{types.EdgeCall, `(call_expression function: (identifier) @target)`},
	{types.EdgeCall, `(call_expression function: (field_expression field: (field_identifier) @target))`},
	{types.EdgeInclude, `(preproc_include path: (string_literal) @target)`},
	{types.EdgeInclude, `(preproc_include path: (system_lib_string) @target)`},
}

var cppDefinitions = []string{
	`(namespace_definition name: (_) @name) @definition.namespace`,
	`(class_specifier name: (type_identifier) @name body: (field_declaration_list)) @definition.class`,
	`(struct_specifier name: (type_identifier) @name body: (field_declaration_list)) @definition.struct`,
	`(union_specifier name: (type_identifier) @name body: (field_declaration_list)) @definition.union`,
	`(enum_specifier name: (type_identifier) @name body: (enumerator_list)) @definition.enum`,
	`(enumerator name: (identifier) @name) @definition.enum_constant`,
	`(function_definition declarator: (function_declarator declarator: [(identifier) (field_identifier) (qualified_identifier) (destructor_name) (operator_name)] @name)) @definition.function`,
	`(function_definition declarator: (pointer_declarator declarator: (function_declarator declarator: (identifier) @name))) @definition.function`,
	`(field_declaration declarator: (function_declarator declarator: (field_identifier) @name)) @definition.method`,
	`(field_declaration declarator: (field_identifier) @name) @definition.field`,
	`(type_definition declarator: (type_identifier) @name) @definition.typedef`,
	`(alias_declaration name: (type_identifier) @name) @definition.typedef`,
	`(preproc_def name: (identifier) @name) @definition.macro`,
	`(preproc_function_def name: (identifier) @name) @definition.macro`,
}

var cppRelations = []Relation{
	{types.EdgeCall, `(call_expression function: (identifier) @target)`},
	{types.EdgeCall, `(call_expression function: (field_expression field: (field_identifier) @target))`},
	{types.EdgeCall, `(call_expression function: (qualified_identifier) @target)`},
	{types.EdgeInheritance, `(class_specifier name: (type_identifier) @source (base_class_clause (type_identifier) @target))`},
	{types.EdgeInheritance, `(struct_specifier name: (type_identifier) @source (base_class_clause (type_identifier) @target))`},
	{types.EdgeInheritance, `(class_specifier name: (type_identifier) @source (base_class_clause (qualified_identifier) @target))`},
	{types.EdgeInclude, `(preproc_include path: (string_literal) @target)`},
	{types.EdgeInclude, `(preproc_include path: (system_lib_string) @target)`},
}

// definitionKinds maps the suffix of a @definition.<kind> capture
var definitionKinds = map[string]types.NodeKind{
	"module":        types.NodeModule,
	"namespace":     types.NodeNamespace,
	"class":         types.NodeClass,
	"struct":        types.NodeStruct,
	"interface":     types.NodeInterface,
	"annotation":    types.NodeAnnotation,
	"union":         types.NodeUnion,
	"enum":          types.NodeEnum,
	"typedef":       types.NodeTypedef,
	"function":      types.NodeFunction,
	"method":        types.NodeMethod,
	"macro":         types.NodeMacro,
	"variable":      types.NodeGlobalVariable,
	"field":         types.NodeField,
	"constant":      types.NodeConstant,
	"enum_constant": types.NodeEnumConstant,
}
